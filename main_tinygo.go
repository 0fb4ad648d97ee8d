//go:build tinygo

package main

import (
	"maix/app"
	"maix/hal"
)

func main() {
	app.Run(hal.New(), app.Config{Mount: true})
}
