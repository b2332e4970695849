// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	reg.Register("journal", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewJournalSink(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "journal", Conf: map[string]any{"path": "clearing.jsonl"}})
package factory
