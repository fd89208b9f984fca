// Package config loads herald.yaml and the process environment.
//
// # Configuration File Structure
//
//	server:
//	  addr: ":7070"
//	  allowAnyOrigin: false
//	  shutdownTimeout: 5s
//	log:
//	  debug: false
//	controllers:
//	  - name: cart
//	    description: shopping cart totals
//	watch:
//	  debounce: 100ms
//	  files: [herald.yaml]
//	journal:
//	  enabled: true
//	  interval: 30s
//	  capacity: 4096
//	  s3:
//	    bucket: audit
//	    prefix: herald/
//	    region: eu-west-1
//	metrics:
//	  namespace: herald
//
// A .env file next to herald.yaml is loaded first. HERALD_ADDR and
// HERALD_DEBUG override the file.
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(".")
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
//	fmt.Println("Addr:", cfg.Server.Addr)
package config
