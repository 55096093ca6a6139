// Package jsonconfig provides support for reading and using a JSON
// configuration file in a standard format for the RTK bridge.
//
// An example config file:
//
//	{
//		"serialCandidates": ["/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2"],
//		"baudRate": 115200,
//		"correctionHost": "caster.example.com",
//		"correctionPort": 2101,
//		"credentialsFile": "auth",
//		"timeout": 5,
//		"sleeptime": 2,
//		"statusHost": "localhost",
//		"statusPort": 2102
//	}
//
// This suits the bridge running on a Raspberry Pi and reading GPGGA
// sentences from a GNSS receiver over one of a set of candidate serial
// USB devices, forwarding them to a correction service and writing the
// RTCM bytes it sends back to the receiver.
package jsonconfig

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Config contains the values from the JSON config file and a pointer
// to the system log. To support unit testing, functions that need to
// write to the log should get it from the config or from an argument,
// so a test can control whether it writes to a real log file.
type Config struct {
	// SerialCandidates lists the device names the GNSS receiver might
	// appear as - first one found wins.
	SerialCandidates []string `json:"serialCandidates"`

	// BaudRate is the serial connection's baud rate.
	BaudRate uint `json:"baudRate"`

	// CorrectionHost is the host name of the correction service.
	CorrectionHost string `json:"correctionHost"`

	// CorrectionPort is the port on which the correction service is
	// listening.
	CorrectionPort uint `json:"correctionPort"`

	// CredentialsFile names the file holding one plain "user:password"
	// candidate credential per line; each line is base64-encoded when
	// the file is read. Ignored if HardCodedCredential is set.
	CredentialsFile string `json:"credentialsFile"`

	// HardCodedCredential is a single base64-encoded "user:password"
	// credential given inline in the config file, used instead of
	// CredentialsFile when non-empty.
	HardCodedCredential string `json:"hardCodedCredential"`

	// LostConnectionTimeout, in seconds, is returned as a Duration by
	// Timeout. The bridge's drivers don't consult it: the serial
	// driver uses its fixed serialrtk.LineReceiveTimeout instead.
	LostConnectionTimeout uint `json:"timeout"`

	// LostConnectionSleepTime, in seconds, is the pause after every
	// candidate key has failed to open before the keys are enumerated
	// again (the supervisors' RetryInterval).
	LostConnectionSleepTime uint `json:"sleeptime"`

	// StatusHost and StatusPort give the address the bridge's optional
	// HTTP status page listens on. Leaving StatusPort zero disables
	// the status page.
	StatusHost string `json:"statusHost"`
	StatusPort uint   `json:"statusPort"`

	// systemLog is the logger that GetConfig reports read and parse
	// errors to, and can be nil (the standard logger is used then).
	// It's not supplied in the JSON: the application calls
	// GetConfigFromFile and, if there is a log writer, supplies it as
	// a parameter.
	systemLog *log.Logger
}

// Timeout returns LostConnectionTimeout as a time.Duration.
func (config *Config) Timeout() time.Duration {
	return time.Duration(config.LostConnectionTimeout) * time.Second
}

// RetryInterval returns LostConnectionSleepTime as a time.Duration.
func (config *Config) RetryInterval() time.Duration {
	return time.Duration(config.LostConnectionSleepTime) * time.Second
}

// GetConfigFromFile gets the config from the file given by
// configFileName.
func GetConfigFromFile(configFileName string, systemLog *log.Logger) (*Config, error) {
	jsonReader, fileErr := os.Open(configFileName)
	if fileErr != nil {
		return nil, fileErr
	}
	defer jsonReader.Close()

	config, jsonError := GetConfig(jsonReader, systemLog)
	if jsonError != nil {
		return nil, jsonError
	}

	return config, nil
}

// GetConfig reads from the given source and returns the config.
func GetConfig(jsonSource io.Reader, systemLog *log.Logger) (*Config, error) {
	jsonBytes, jsonReadError := io.ReadAll(jsonSource)
	if jsonReadError != nil {
		// We can't read the control file - permissions?
		errorMessage := fmt.Sprintf("cannot read the JSON control file - %v", jsonReadError)
		logTo(systemLog, errorMessage)
		return nil, jsonReadError
	}

	var config Config
	if jsonParseError := json.Unmarshal(jsonBytes, &config); jsonParseError != nil {
		errorMessage := fmt.Sprintf("cannot parse the JSON control file - %v", jsonParseError)
		logTo(systemLog, errorMessage)
		return nil, jsonParseError
	}

	config.systemLog = systemLog

	return &config, nil
}

func logTo(systemLog *log.Logger, message string) {
	if systemLog != nil {
		systemLog.Println(message)
	} else {
		log.Println(message)
	}
}
