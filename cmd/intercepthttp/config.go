package main

import (
	"flag"
	"strings"
)

// config holds the command-line knobs for the intercepthttp binary.
type config struct {
	version    bool   // print version and exit
	addr       string // proxy listen address
	certPath   string // directory the self-signed root CA is persisted under
	debug      bool   // enable debug-level structured logging
	ignoreHost stringList
	allowHost  stringList
	proxyAuth  string // user:pass|user2:pass2, empty disables auth
	upstream   string // socks5://host:port or http://host:port upstream chain
	mapLocal   string // path to a JSON file of addon.MapLocalItem
	forceHTTP2 bool   // force HTTP/2 for the outbound client, like the teacher's DefaultClientFactory
	logFile    string // structured log output path, default stdout
}

// stringList is a comma-separated flag.Value, e.g. -ignore-host a.com,b.com.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = nil
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func loadConfig() *config {
	cfg := new(config)
	flag.BoolVar(&cfg.version, "version", false, "print version and exit")
	flag.StringVar(&cfg.addr, "addr", ":9080", "proxy listen address")
	flag.StringVar(&cfg.certPath, "cert-path", "", "directory to persist the self-signed root CA (default: OS config dir)")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug logging")
	flag.Var(&cfg.ignoreHost, "ignore-host", "comma-separated glob patterns of authorities to tunnel blind (not applied when -allow-host is set)")
	flag.Var(&cfg.allowHost, "allow-host", "comma-separated glob patterns; if set, only matching authorities are intercepted")
	flag.StringVar(&cfg.proxyAuth, "proxy-auth", "", "require proxy authentication, user:pass pairs separated by |")
	flag.StringVar(&cfg.upstream, "upstream", "", "chain outbound connections through an upstream proxy (socks5://host:port or http://host:port)")
	flag.StringVar(&cfg.mapLocal, "map-local", "", "path to a JSON file of local file-mapping rules")
	flag.BoolVar(&cfg.forceHTTP2, "force-http2", false, "force HTTP/2 for the outbound client")
	flag.StringVar(&cfg.logFile, "log-file", "", "write structured logs to this file instead of stdout")
	flag.Parse() //revive:disable-line:deep-exit -- ok for cmd/*
	return cfg
}
