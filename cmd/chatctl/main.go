package main

import "github.com/nfrund/orgchat/cmd/chatctl/cmd"

func main() {
	cmd.Execute()
}
