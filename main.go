package main

import (
	"autoria-crawler/cmd"
)

func main() {
	cmd.Execute()
}
