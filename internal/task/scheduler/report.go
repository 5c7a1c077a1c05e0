package scheduler

import (
	logx "cronwire/pkg/logx"
)

// warn logs a listener dispatch warning. Bursts are throttled; the number of
// suppressed lines is attached to the next one that gets through.
func (s *Service) warn(err error) {
	if err == nil {
		return
	}
	s.warnf(err, "listener dispatch warning")
}

func (s *Service) warnf(err error, msg string, fields ...logx.Field) {
	if !s.warnLimiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	fields = append(fields, logx.Err(err))
	if n := s.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	s.log.Warn(msg, fields...)
}
