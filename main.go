package main

import "github.com/andresmejia3/steady/cmd"

func main() {
	cmd.Execute()
}
