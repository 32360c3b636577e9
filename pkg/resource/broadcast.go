package resource

import (
	"encoding/json"
	"net/http"
	"reflect"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/permission"
)

// Broadcaster is implemented by values that present a different view
// depending on who receives them.
type Broadcaster interface {
	BroadcastTo(a agent.Agent) any
}

// Response lets a handler choose the status and cookies alongside the body.
// Handlers may return a plain body instead.
type Response struct {
	Status  int
	Body    any
	Cookies []*http.Cookie
}

type acknowledgement struct {
	Result string `json:"result"`
}

// Acknowledged is the body for handlers with nothing else to say.
var Acknowledged = acknowledgement{Result: "ok"}

// Broadcast gates body for read access by a and writes it as JSON. Nothing
// is written if any part of body is denied.
func Broadcast(w http.ResponseWriter, a agent.Agent, body any) error {
	resp, ok := body.(*Response)
	if !ok {
		resp = &Response{Body: body}
	}

	if err := permission.GateRead(resp.Body, a); err != nil {
		return err
	}

	payload, err := json.Marshal(viewFor(resp.Body, a))
	if err != nil {
		return err
	}

	for _, c := range resp.Cookies {
		http.SetCookie(w, c)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	return nil
}

// viewFor resolves the view a receives of v. Broadcasters inside slices,
// arrays and maps are resolved element by element.
func viewFor(v any, a agent.Agent) any {
	if v == nil {
		return nil
	}
	if b, ok := v.(Broadcaster); ok {
		return b.BroadcastTo(a)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return v
		}
		return viewFor(rv.Elem().Interface(), a)
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		fallthrough
	case reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = viewFor(rv.Index(i).Interface(), a)
		}
		return out
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = viewFor(iter.Value().Interface(), a)
		}
		return out
	}
	return v
}
