// Package config provides configuration parsing for netsync servers and
// clients.
//
// The configuration is stored in netsync.json, or netsync.yaml, in the
// working directory. This package handles loading, saving, and validating
// configuration. Every option has a default, so a file only needs the
// values it changes.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "port": 27910,
//	    "tickRate": 10,
//	    "maxClients": 8,
//	    "dscp": 26
//	  },
//	  "channel": {
//	    "timeout": "30s",
//	    "duplicates": 1
//	  },
//	  "interp": {
//	    "mode": "cubic",
//	    "minBufferMs": 50,
//	    "maxBufferMs": 200
//	  },
//	  "admin": {
//	    "addr": "localhost:27911"
//	  },
//	  "demo": {
//	    "dir": "demos",
//	    "compress": true,
//	    "bucket": "my-demos"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Port:", cfg.Server.Port)
package config
