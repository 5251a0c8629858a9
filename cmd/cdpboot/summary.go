package main

import (
	"time"

	k6metrics "go.k6.io/k6/metrics"

	"github.com/cdpboot/cdpboot/log"
)

// sampleLogger drains launch samples into the debug log.
type sampleLogger struct {
	samples chan k6metrics.SampleContainer
	logger  *log.Logger
	done    chan struct{}
}

func newSampleLogger(samples chan k6metrics.SampleContainer, logger *log.Logger) *sampleLogger {
	s := &sampleLogger{
		samples: samples,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.drain()

	return s
}

func (s *sampleLogger) drain() {
	defer close(s.done)
	for sc := range s.samples {
		for _, sample := range sc.GetSamples() {
			if sample.Metric.Contains == k6metrics.Time {
				s.logger.Debugf("metrics", "%s=%s", sample.Metric.Name, time.Duration(sample.Value*float64(time.Millisecond)))
				continue
			}
			s.logger.Debugf("metrics", "%s=%g", sample.Metric.Name, sample.Value)
		}
	}
}

// close returns once every pushed sample is logged. Nothing may be pushed
// afterwards.
func (s *sampleLogger) close() {
	close(s.samples)
	<-s.done
}
