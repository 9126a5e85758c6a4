package main

import (
	"os"

	"github.com/AlexanderGrooff/converge/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
