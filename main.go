package main

import "github.com/exzos28/torrent-streamer/cmd"

func main() {
	cmd.Execute()
}
