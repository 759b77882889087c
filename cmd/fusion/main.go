package main

import (
	"os"

	"horse.fit/fusion/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
