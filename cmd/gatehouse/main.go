package main

import "github.com/terraconstructs/gatehouse/cmd/gatehouse/cmd"

func main() {
	cmd.Execute()
}
