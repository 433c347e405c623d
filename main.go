package main

import (
	"flag"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to the configuration file")
	dbPath := flag.String("db", "", "Path to the SQLite database (overrides config)")
	enableMQTT := flag.Bool("mqtt", true, "Ingest mesh messages from MQTT")
	enableHTTP := flag.Bool("http", true, "Serve the HTTP endpoints")
	httpPort := flag.Int("http-port", 8080, "HTTP server port")
	once := flag.Bool("once", false, "Run a single estimation pass and exit")
	output := flag.String("output", "-", "Output file for -once mode, \"-\" for stdout")
	flag.Parse()

	if *once {
		RunOnce(*configFile, *dbPath, *output)
		return
	}
	RunService(*configFile, *dbPath, *httpPort, *enableMQTT, *enableHTTP)
}
