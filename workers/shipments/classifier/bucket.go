package classifier

import (
	"fmt"
	"strings"
)

// Bucket is one of the operational views a dispatcher filters by.
type Bucket string

const (
	BucketActive    Bucket = "ACTIVE"
	BucketUpcoming  Bucket = "UPCOMING"
	BucketCompleted Bucket = "COMPLETED"
	BucketDelayed   Bucket = "DELAYED"
)

// Buckets lists every bucket in tab order.
var Buckets = []Bucket{BucketActive, BucketUpcoming, BucketDelayed, BucketCompleted}

func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Buckets {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown bucket: %q", s)
}

type Color string

const (
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// Style is the card label and color for a shipment.
type Style struct {
	Label string
	Color Color
}

var (
	StyleCompleted  = Style{Label: "COMPLETED", Color: ColorGreen}
	StyleInTransit  = Style{Label: "IN TRANSIT", Color: ColorBlue}
	StyleToLoad     = Style{Label: "TO LOAD", Color: ColorBlue}
	StyleInProgress = Style{Label: "IN PROGRESS", Color: ColorYellow}
	StyleDelayed    = Style{Label: "DELAYED", Color: ColorRed}
)
