// Package location provides position sources for the location stream of a
// recording session: a serial NMEA GPS receiver and a simulated walk.
package location

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoFix is returned for well-formed sentences that carry no valid position.
	ErrNoFix = errors.New("no position fix")
	// ErrUnsupportedSentence is returned for sentence types other than GGA and RMC.
	ErrUnsupportedSentence = errors.New("unsupported sentence")
)

// Fix is a position decoded from one NMEA sentence. Time is the receiver's
// UTC time of day (and date for RMC); it is zero when the sentence has none.
type Fix struct {
	Sentence  string
	Latitude  float64
	Longitude float64
	Time      time.Time
}

// ParseNMEA decodes a GGA or RMC sentence from any talker ($GP, $GN, $GL...).
// The checksum is verified when present.
func ParseNMEA(line string) (Fix, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, fmt.Errorf("not an NMEA sentence: %q", line)
	}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		if err := verifyChecksum(body[:star], body[star+1:]); err != nil {
			return Fix{}, err
		}
		body = body[:star]
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) < 5 {
		return Fix{}, fmt.Errorf("malformed sentence address %q", fields[0])
	}

	kind := fields[0][len(fields[0])-3:]
	switch kind {
	case "GGA":
		return parseGGA(fields)
	case "RMC":
		return parseRMC(fields)
	default:
		return Fix{}, fmt.Errorf("%w: %s", ErrUnsupportedSentence, fields[0])
	}
}

func verifyChecksum(body, sum string) error {
	want, err := strconv.ParseUint(strings.TrimSpace(sum), 16, 8)
	if err != nil {
		return fmt.Errorf("malformed checksum %q", sum)
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if byte(want) != got {
		return fmt.Errorf("checksum mismatch: got %02X, want %02X", got, want)
	}
	return nil
}

// $--GGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,q,...
func parseGGA(f []string) (Fix, error) {
	if len(f) < 7 {
		return Fix{}, fmt.Errorf("GGA: expected at least 7 fields, got %d", len(f))
	}
	if f[6] == "" || f[6] == "0" {
		return Fix{}, ErrNoFix
	}
	lat, lon, err := parsePosition(f[2], f[3], f[4], f[5])
	if err != nil {
		return Fix{}, fmt.Errorf("GGA: %w", err)
	}
	ts, err := parseTime(f[1], "")
	if err != nil {
		return Fix{}, fmt.Errorf("GGA: %w", err)
	}
	return Fix{Sentence: "GGA", Latitude: lat, Longitude: lon, Time: ts}, nil
}

// $--RMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,speed,course,ddmmyy,...
func parseRMC(f []string) (Fix, error) {
	if len(f) < 10 {
		return Fix{}, fmt.Errorf("RMC: expected at least 10 fields, got %d", len(f))
	}
	if f[2] != "A" {
		return Fix{}, ErrNoFix
	}
	lat, lon, err := parsePosition(f[3], f[4], f[5], f[6])
	if err != nil {
		return Fix{}, fmt.Errorf("RMC: %w", err)
	}
	ts, err := parseTime(f[1], f[9])
	if err != nil {
		return Fix{}, fmt.Errorf("RMC: %w", err)
	}
	return Fix{Sentence: "RMC", Latitude: lat, Longitude: lon, Time: ts}, nil
}

func parsePosition(lat, ns, lon, ew string) (float64, float64, error) {
	if lat == "" || lon == "" {
		return 0, 0, ErrNoFix
	}
	la, err := parseCoordinate(lat, 2)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lo, err := parseCoordinate(lon, 3)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}

	switch ns {
	case "N":
	case "S":
		la = -la
	default:
		return 0, 0, fmt.Errorf("latitude hemisphere %q", ns)
	}
	switch ew {
	case "E":
	case "W":
		lo = -lo
	default:
		return 0, 0, fmt.Errorf("longitude hemisphere %q", ew)
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return 0, 0, fmt.Errorf("position out of range: %f,%f", la, lo)
	}
	return la, lo, nil
}

// parseCoordinate converts (d)ddmm.mmmm into decimal degrees.
func parseCoordinate(v string, degreeDigits int) (float64, error) {
	if len(v) < degreeDigits+2 {
		return 0, fmt.Errorf("malformed coordinate %q", v)
	}
	deg, err := strconv.Atoi(v[:degreeDigits])
	if err != nil {
		return 0, fmt.Errorf("malformed coordinate %q", v)
	}
	minutes, err := strconv.ParseFloat(v[degreeDigits:], 64)
	if err != nil || minutes >= 60 {
		return 0, fmt.Errorf("malformed coordinate %q", v)
	}
	return float64(deg) + minutes/60, nil
}

func parseTime(hms, dmy string) (time.Time, error) {
	if len(hms) < 6 {
		return time.Time{}, nil
	}
	h, errH := strconv.Atoi(hms[0:2])
	m, errM := strconv.Atoi(hms[2:4])
	sec, errS := strconv.ParseFloat(hms[4:], 64)
	if errH != nil || errM != nil || errS != nil {
		return time.Time{}, fmt.Errorf("malformed time %q", hms)
	}
	whole := int(sec)
	nanos := int((sec - float64(whole)) * 1e9)

	year, month, day := 0, time.January, 1
	if len(dmy) == 6 {
		d, errD := strconv.Atoi(dmy[0:2])
		mo, errMo := strconv.Atoi(dmy[2:4])
		y, errY := strconv.Atoi(dmy[4:6])
		if errD != nil || errMo != nil || errY != nil {
			return time.Time{}, fmt.Errorf("malformed date %q", dmy)
		}
		// two-digit years pivot at 1980
		year = 2000 + y
		if y >= 80 {
			year = 1900 + y
		}
		month, day = time.Month(mo), d
	}
	return time.Date(year, month, day, h, m, whole, nanos, time.UTC), nil
}
