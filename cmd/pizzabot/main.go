package main

import (
	"os"

	"github.com/etokosmo/pizza-shop/cmd/pizzabot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
