// Package logging provides structured logging for the Ada server.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text while developing, with service and version attached to
// every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "/var/log/ada/ada.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Component("fleet").Info("listening", "port", 12345)
//
// Components take the logger through their own narrow Logger interfaces,
// so *Logger is passed in rather than kept in a package global.
package logging
