// Package config provides configuration parsing for urlbar.
//
// The configuration is stored in urlbar.json in the working directory.
// This package handles loading, saving, and validating configuration.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "host": "localhost",
//	    "port": 7070,
//	    "basePath": "/_urlbar",
//	    "allowedOrigins": ["http://localhost:7070"],
//	    "trustedProxies": ["10.0.0.0/8"],
//	    "shutdownTimeout": "10s"
//	  },
//	  "watch": {
//	    "interval": "200ms"
//	  },
//	  "metrics": {
//	    "enabled": true,
//	    "path": "/metrics",
//	    "namespace": "urlbar"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
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
//	fmt.Println("Interval:", cfg.Watch.Interval)
package config
