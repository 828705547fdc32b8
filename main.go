package main

import "github.com/arpanauts/biomapper/cmd"

func main() {
	cmd.Execute()
}
