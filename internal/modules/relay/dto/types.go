package dto

type StatsOutput struct {
	Rooms       int `json:"rooms"`
	Clients     int `json:"clients"`
	Documents   int `json:"documents"`
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}
