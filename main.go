package main

import "github.com/KaramelBytes/playbook-guard/cmd"

func main() {
	cmd.Execute()
}
