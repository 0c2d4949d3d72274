package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Correspondence pairs the planar object points of the pattern with their detected image positions
// for one view.
type Correspondence struct {
	ObjectPoints []r3.Vector
	ImagePoints  []r2.Point
}

// Collector accumulates the correspondences of a calibration batch.
type Collector struct {
	views []Correspondence
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends a view. Object and image points must be non-empty and of the same length.
func (c *Collector) Add(corr Correspondence) error {
	if len(corr.ObjectPoints) == 0 {
		return errors.New("correspondence has no points")
	}
	if len(corr.ObjectPoints) != len(corr.ImagePoints) {
		return errors.Errorf("correspondence has %d object points but %d image points",
			len(corr.ObjectPoints), len(corr.ImagePoints))
	}
	c.views = append(c.views, corr)
	return nil
}

// Len is the number of views collected.
func (c *Collector) Len() int {
	return len(c.views)
}

// Correspondences returns the collected views in insertion order.
func (c *Collector) Correspondences() []Correspondence {
	return c.views
}
