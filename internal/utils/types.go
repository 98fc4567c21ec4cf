package utils

import "time"

// DownloadEntry is one line item of a batch list.
type DownloadEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
	Limit      string `yaml:"limit,omitempty"`
}

// DownloadJob is what the scheduler hands to a downloader. It is built once
// per entry and not mutated after the download starts.
type DownloadJob struct {
	ID               string
	URL              string
	OutputPath       string
	Connections      int
	SpeedLimit       int64 // bytes per second, 0 = unlimited
	MaxRedirects     int
	Reconnect        bool
	HTTPClientConfig HTTPClientConfig
}

type HTTPClientConfig struct {
	Timeout        time.Duration // connect timeout
	ReadTimeout    time.Duration // per read on the response body, also bounds response headers
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}
