package main

import "github.com/Likyliang/APIHub-Gateway/cmd"

func main() {
	cmd.Execute()
}
