package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/dshills/baton"
)

// feedLoop reads NDJSON trigger lines from r until EOF and triggers the
// named event for each one. A line looks like:
//
//	{"event": "order.placed", "params": {"id": 7, "source": "web"}}
//
// Malformed lines are logged and skipped.
func feedLoop(r io.Reader, d *baton.Dispatcher, logger zerolog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			logger.Warn().Str("line", line).Msg("skipping invalid json")
			continue
		}
		event := gjson.Get(line, "event").String()
		if event == "" {
			logger.Warn().Str("line", line).Msg("skipping line without an event")
			continue
		}
		args := baton.Args{}
		if params := gjson.Get(line, "params"); params.IsObject() {
			params.ForEach(func(key, value gjson.Result) bool {
				args[key.String()] = value.Value()
				return true
			})
		}
		d.Trigger(event, args)
	}
	if err := sc.Err(); err != nil {
		logger.Error().Err(err).Msg("feed read failed")
	}
}
