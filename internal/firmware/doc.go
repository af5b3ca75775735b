// Package firmware keeps a local copy of the current device firmware and
// serves it to device sessions.
//
// The firmware is published as two files under an HTTP base URL: the image
// itself (<blob>) and its hash (<blob>.hash). The Updater polls the hash at
// startup and on a cron schedule (daily at local midnight by default), and
// downloads the image only when the hash changes. A failed poll is retried
// after the retry interval.
//
// The Updater is the only writer. Sessions read through Hash and Firmware,
// which makes *Updater a fleet.FirmwareSource.
package firmware
