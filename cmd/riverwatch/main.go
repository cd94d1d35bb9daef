package main

import (
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"github.com/bryanchriswhite/riverwatch/cmd/riverwatch/commands"

	// Decoder backends, background models and gocv detectors register
	// themselves.
	_ "github.com/bryanchriswhite/riverwatch/internal/capture/gstreamer"
	_ "github.com/bryanchriswhite/riverwatch/internal/capture/opencv"
	_ "github.com/bryanchriswhite/riverwatch/internal/detector/opencv"
)

func main() {
	// A .env file is optional; variables already set win.
	_ = godotenv.Load()

	commands.Execute()
}
