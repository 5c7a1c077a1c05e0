// Package logx is cronwire's structured logging facade over zerolog.
//
// Loggers are values. The zero Logger drops everything, and loggers handed out
// by a Service follow its sinks across config reloads. Console output is
// human readable with a short caller; file output is JSON lines.
package logx
