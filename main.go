package main

import "github.com/andresmejia3/thermalgait/cmd"

func main() {
	cmd.Execute()
}
