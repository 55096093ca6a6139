// rtkbridge connects a serial-attached RTK receiver to a correction
// service: RTCM correction bytes flow from the service to the
// receiver, GPGGA position sentences flow from the receiver back to
// the service. It's the complement to serial_usb_grabber and
// rtcmfilter - instead of a one-way capture pipe, it's a two-way
// bridge.
//
// On startup it looks for a JSON config file (rtkbridge.json by
// default) giving the candidate serial device names, the correction
// service's host and port, the credential source and the optional
// status-page address. For example:
//
//	{
//		"serialCandidates": ["/dev/ttyACM0", "/dev/ttyACM1"],
//		"correctionHost": "caster.example.com",
//		"correctionPort": 2101,
//		"credentialsFile": "auth",
//		"timeout": 5,
//		"sleeptime": 2,
//		"statusHost": "localhost",
//		"statusPort": 2102
//	}
//
// If statusPort is non-zero, a status page is served giving the
// bridge's current uplink/downlink presence and recent activity,
// following the same control-port convention as the proxy app
// (/status/report, /status/loglevel/N).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goblimey/go-tools/dailylogger"
	"github.com/goblimey/go-tools/logger"
	reporter "github.com/goblimey/go-tools/statusreporter"

	"github.com/goblimey/rtk-bridge/bridge"
	"github.com/goblimey/rtk-bridge/correction"
	"github.com/goblimey/rtk-bridge/driver"
	"github.com/goblimey/rtk-bridge/jsonconfig"
	"github.com/goblimey/rtk-bridge/serialrtk"
)

var log = logger.New()

// activitySnapshotInterval is how often the bridge's status is
// written to the daily activity log.
const activitySnapshotInterval = 30 * time.Second

func main() {
	var configFileName string
	flag.StringVar(&configFileName, "c", "rtkbridge.json", "JSON config file")
	flag.StringVar(&configFileName, "config", "rtkbridge.json", "JSON config file")

	verbose := false
	flag.BoolVar(&verbose, "v", true, "verbose logging (shorthand)")
	flag.BoolVar(&verbose, "verbose", true, "verbose logging")

	quiet := false
	flag.BoolVar(&quiet, "q", false, "quiet logging (shorthand)")
	flag.BoolVar(&quiet, "quiet", false, "quiet logging")

	flag.Parse()

	if verbose {
		log.SetLogLevel(1)
	}
	if quiet {
		log.SetLogLevel(0)
	}

	config, err := jsonconfig.GetConfigFromFile(configFileName, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read config file %s - %v\n", configFileName, err)
		os.Exit(1)
	}

	if _, statErr := os.Stat("./logs"); os.IsNotExist(statErr) {
		if mkdirErr := os.Mkdir("./logs", os.ModePerm); mkdirErr != nil {
			panic(mkdirErr)
		}
	}
	activityLog := dailylogger.New("./logs", "bridge.", ".log")

	credentials := credentialSource(config)

	serialFactory := &serialrtk.Factory{Candidates: config.SerialCandidates, BaudRate: config.BaudRate}
	serialSupervisor := driver.NewSupervisor[string, serialrtk.GPGGAEvent](serialFactory)
	if d := config.RetryInterval(); d > 0 {
		serialSupervisor.RetryInterval = d
	}

	correctionFactory := &correction.Factory{
		HostPort:    fmt.Sprintf("%s:%d", config.CorrectionHost, config.CorrectionPort),
		Credentials: credentials,
	}
	correctionSupervisor := driver.NewSupervisor[string, correction.RTCMEvent](correctionFactory)
	if d := config.RetryInterval(); d > 0 {
		correctionSupervisor.RetryInterval = d
	}

	rtkBridge := bridge.New()

	go recordActivitySnapshots(activityLog, rtkBridge)

	if config.StatusPort != 0 {
		fmt.Fprintf(log, "setting up status reporter on %s:%d\n", config.StatusHost, config.StatusPort)
		bridgeReporter := reporter.MakeReporter(rtkBridge, config.StatusHost, int(config.StatusPort))
		bridgeReporter.SetUseTextTemplates(true)
		go bridgeReporter.StartService()
	}

	fmt.Fprintf(log, "starting correction-service worker\n")
	go correctionSupervisor.Run(logKeyOnConnect("correction", rtkBridge.HandleCorrectionEvent))

	fmt.Fprintf(log, "starting serial worker\n")
	serialSupervisor.Run(logKeyOnConnect("serial", rtkBridge.HandleSerialEvent))
}

// logKeyOnConnect wraps a supervisor callback to report which
// candidate key connected, then delegates to handle unchanged.
func logKeyOnConnect[E any](label string, handle func(driver.Event[E]) bool) func(driver.Event[E]) bool {
	return func(ev driver.Event[E]) bool {
		if ev.Kind == driver.KindConnected {
			fmt.Fprintf(log, "%s: connected on %v\n", label, ev.Key)
		}
		return handle(ev)
	}
}

// recordActivitySnapshots writes the bridge's status to the daily
// activity log every activitySnapshotInterval, giving a rolling
// datestamped history of uplink/downlink presence and recent traffic
// alongside the operator-facing status page.
func recordActivitySnapshots(activityLog *dailylogger.Writer, rtkBridge *bridge.Bridge) {
	ticker := time.NewTicker(activitySnapshotInterval)
	defer ticker.Stop()
	for range ticker.C {
		activityLog.Write(rtkBridge.StatusReport())
	}
}

// credentialSource picks the hard-coded credential over the file-based
// one when both are configured, since a single inline credential is
// the more specific choice.
func credentialSource(config *jsonconfig.Config) correction.CredentialSource {
	if config.HardCodedCredential != "" {
		return correction.HardCoded(config.HardCodedCredential)
	}
	path := config.CredentialsFile
	if path == "" {
		path = "auth"
	}
	return correction.FileCredentials{Path: path}
}
