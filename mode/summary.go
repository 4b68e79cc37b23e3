package mode

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/khaledhikmat/vs-overlay/model"
)

// summary folds the stats of one simulated agent into per-stage totals.
type summary struct {
	sessions   int
	framer     model.FramerStats
	sampler    model.SamplerStats
	sequencer  model.SequencerStats
	output     model.OutputStats
	analyzers  []model.AnalyzerStats
	departures model.DepartureStats
	errors     int
}

func (s *summary) add(stats interface{}) {
	switch st := stats.(type) {
	case model.AgentStats:
		s.sessions = st.Sessions
	case model.FramerStats:
		s.framer.Frames += st.Frames
		s.framer.Errors += st.Errors
		s.framer.Uptime += st.Uptime
	case model.SamplerStats:
		s.sampler.Sampled += st.Sampled
		s.sampler.Dispatched += st.Dispatched
		s.sampler.Retries += st.Retries
		s.sampler.DispatchFull += st.DispatchFull
	case model.SequencerStats:
		s.sequencer.Accepted += st.Accepted
		s.sequencer.Delivered += st.Delivered
		s.sequencer.Late += st.Late
		s.sequencer.Duplicates += st.Duplicates
		s.sequencer.ForcedSkips += st.ForcedSkips
		s.sequencer.SkippedSeqs += st.SkippedSeqs
		s.sequencer.Abandoned += st.Abandoned
	case model.OutputStats:
		s.output.Emitted += st.Emitted
		s.output.Annotated += st.Annotated
		s.output.Interpolated += st.Interpolated
		s.output.Raw += st.Raw
		s.output.Evicted += st.Evicted
		s.output.LateResults += st.LateResults
		s.output.WaitTimeouts += st.WaitTimeouts
		s.output.DrawErrors += st.DrawErrors
	case model.AnalyzerStats:
		s.analyzers = append(s.analyzers, st)
	case model.DepartureStats:
		s.departures.Departures += st.Departures
	}
}

func (s *summary) rows() [][]string {
	count := func(stage, metric string, v int) []string {
		return []string{stage, metric, strconv.Itoa(v)}
	}

	rows := [][]string{
		count("agent", "sessions", s.sessions),
		count("framer", "frames", s.framer.Frames),
		count("sampler", "sampled", s.sampler.Sampled),
		count("sampler", "dispatch retries", s.sampler.Retries),
		count("sampler", "dispatch full", s.sampler.DispatchFull),
		count("sequencer", "delivered", s.sequencer.Delivered),
		count("sequencer", "late", s.sequencer.Late),
		count("sequencer", "duplicates", s.sequencer.Duplicates),
		count("sequencer", "forced skips", s.sequencer.ForcedSkips),
		count("sequencer", "skipped tickets", s.sequencer.SkippedSeqs),
		count("output", "emitted", s.output.Emitted),
		count("output", "annotated", s.output.Annotated),
		count("output", "interpolated", s.output.Interpolated),
		count("output", "raw", s.output.Raw),
		count("output", "evicted", s.output.Evicted),
		count("output", "late results", s.output.LateResults),
		count("output", "wait timeouts", s.output.WaitTimeouts),
		count("output", "draw errors", s.output.DrawErrors),
		count("tracker", "departures", s.departures.Departures),
	}

	for _, a := range s.analyzers {
		rows = append(rows, []string{
			fmt.Sprintf("analyzer w%d", a.Worker),
			"frames / avg ms",
			fmt.Sprintf("%d / %.1f", a.Frames, a.AvgProcTime*1000),
		})
	}

	rows = append(rows, count("pipeline", "errors", s.errors))
	return rows
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
