// Package common holds plumbing shared by the command line tool and the libraries:
// the logger factory behind the dragonboat named loggers and the resolved manager
// configuration.
//
// Logging:
//
//	Packages obtain their logger once with logger.GetLogger("<name>"). InitLoggers
//	installs CreateLogger as factory and sets the level of every name in LoggerNames.
//	Lines are written to LogOutput (stderr) as
//
//	    2026/10/19 10:15:04 WARN  | fstore   | cannot remove lock backlog: ...
//
// Configuration:
//
//	ManagerConfig is filled by the cmd package from flags, environment and .env files.
//	Its String method renders it for --log-level=debug output.
package common
