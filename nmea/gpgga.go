package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FixQuality is the GPS quality indicator field of a GPGGA sentence.
type FixQuality int

const (
	FixInvalid FixQuality = iota
	FixGPS
	FixDGPS
	FixPPS
	FixRTKFixed
	FixRTKFloat
	FixEstimated
	FixManual
	FixSimulated
)

// GPGGA is a decoded GPGGA fix report.
type GPGGA struct {
	UTC            float64
	Latitude       float64
	Longitude      float64
	Status         FixQuality
	Satellites     int
	HDOP           float64
	Altitude       float64
	AltitudeError  float64
}

// ErrWrongHead indicates the line does not have the "$GPGGA," prefix.
// It's benign: the line belongs to some other sentence type.
var ErrWrongHead = errors.New("nmea: not a GPGGA sentence")

// ErrLackOfField indicates a GPGGA sentence that ran out of
// comma-separated fields before Name could be read.
type ErrLackOfField struct{ Name string }

func (e ErrLackOfField) Error() string { return fmt.Sprintf("nmea: missing field %q", e.Name) }

// ErrFailToParse indicates a field was present but couldn't be parsed
// as the type Name requires.
type ErrFailToParse struct{ Name string }

func (e ErrFailToParse) Error() string { return fmt.Sprintf("nmea: failed to parse field %q", e.Name) }

// ParseGPGGA decodes a full GPGGA sentence, including its "$GPGGA,"
// head, into a structured fix report.
func ParseGPGGA(line string) (GPGGA, error) {
	body, ok := strings.CutPrefix(line, "$GPGGA,")
	if !ok {
		return GPGGA{}, ErrWrongHead
	}

	fields := strings.Split(body, ",")
	next := 0
	field := func(name string) (string, error) {
		if next >= len(fields) {
			return "", ErrLackOfField{name}
		}
		v := fields[next]
		next++
		return v, nil
	}

	var result GPGGA

	utcStr, err := field("utc")
	if err != nil {
		return GPGGA{}, err
	}
	result.UTC, err = parseFloat(utcStr)
	if err != nil {
		return GPGGA{}, ErrFailToParse{"utc"}
	}

	latStr, err := field("latitude")
	if err != nil {
		return GPGGA{}, err
	}
	lat, ok := parseDegree(latStr)
	if !ok {
		return GPGGA{}, ErrFailToParse{"latitude"}
	}
	result.Latitude = lat

	latDir, err := field("latitude_dir")
	if err != nil {
		return GPGGA{}, err
	}
	switch latDir {
	case "N":
	case "S":
		result.Latitude = -result.Latitude
	default:
		return GPGGA{}, ErrFailToParse{"latitude_dir"}
	}

	lonStr, err := field("longitude")
	if err != nil {
		return GPGGA{}, err
	}
	lon, ok := parseDegree(lonStr)
	if !ok {
		return GPGGA{}, ErrFailToParse{"longitude"}
	}
	result.Longitude = lon

	lonDir, err := field("longitude_dir")
	if err != nil {
		return GPGGA{}, err
	}
	switch lonDir {
	case "E":
	case "W":
		result.Longitude = -result.Longitude
	default:
		return GPGGA{}, ErrFailToParse{"longitude_dir"}
	}

	statusStr, err := field("status")
	if err != nil {
		return GPGGA{}, err
	}
	status, err := strconv.Atoi(statusStr)
	if err != nil || status < int(FixInvalid) || status > int(FixSimulated) {
		return GPGGA{}, ErrFailToParse{"status"}
	}
	result.Status = FixQuality(status)

	satStr, err := field("satellite")
	if err != nil {
		return GPGGA{}, err
	}
	result.Satellites, err = strconv.Atoi(satStr)
	if err != nil {
		return GPGGA{}, ErrFailToParse{"satellite"}
	}

	hdopStr, err := field("hdop")
	if err != nil {
		return GPGGA{}, err
	}
	result.HDOP, err = parseFloat(hdopStr)
	if err != nil {
		return GPGGA{}, ErrFailToParse{"hdop"}
	}

	altStr, err := field("altitude")
	if err != nil {
		return GPGGA{}, err
	}
	result.Altitude, err = parseFloat(altStr)
	if err != nil {
		return GPGGA{}, ErrFailToParse{"altitude"}
	}

	altUnit, err := field("altitude_unit")
	if err != nil {
		return GPGGA{}, err
	}
	if altUnit != "M" {
		return GPGGA{}, ErrFailToParse{"altitude_unit"}
	}

	altErrStr, err := field("altitude_error")
	if err != nil {
		return GPGGA{}, err
	}
	result.AltitudeError, err = parseFloat(altErrStr)
	if err != nil {
		return GPGGA{}, ErrFailToParse{"altitude_error"}
	}

	altErrUnit, err := field("altitude_error_unit")
	if err != nil {
		return GPGGA{}, err
	}
	if altErrUnit != "M" {
		return GPGGA{}, ErrFailToParse{"altitude_error_unit"}
	}

	return result, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// parseDegree converts a degrees-minutes field (e.g. "3959.55874779" for
// latitude or "11619.61828897" for longitude) into decimal degrees. The
// split point is always two characters before the decimal point:
// everything before it is whole degrees, and those two digits plus the
// fraction are minutes ("3959.55874779" is 39 degrees, 59.55874779
// minutes).
func parseDegree(word string) (float64, bool) {
	dot := strings.IndexByte(word, '.')
	if dot < 2 {
		return 0, false
	}
	split := dot - 2
	degrees, errD := strconv.ParseFloat(word[:split], 64)
	minutes, errM := strconv.ParseFloat(word[split:], 64)
	if errD != nil || errM != nil {
		return 0, false
	}
	return degrees + minutes/60.0, true
}
