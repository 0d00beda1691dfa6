package main

import "transvisor/cmd/gtfs2geojson/cmd"

func main() {
	cmd.Execute()
}
