/*
Package config loads recorder settings from YAML, JSON, and the environment.

# Overview

Config wraps a map[string]any and provides typed accessors that return a
default when a key is missing or has the wrong type. Keys may be dotted
paths into nested maps, so "bus.max_envelopes" reads

	bus:
	  max_envelopes: 1024

Pipeline is the typed view the recorder runs on. LoadPipeline reads a file,
applies defaults, then applies CAPSTREAM_* environment overrides:

	p, err := config.LoadPipeline("capstream.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(p.Bus.MaxEnvelopes, p.Session.DrainTimeout)

# Type Coercion

Duration accepts strings ("250ms", "1h30m"), numbers as seconds, and
time.Duration. Bytes accepts integers and human sizes ("64MiB", "4 MB").
Int refuses floats with a fractional part.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
