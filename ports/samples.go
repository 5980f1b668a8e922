package ports

import (
	"context"

	"llpaccept/domain/particle"
)

// SampleCatalog discovers production sample files for a flavour
type SampleCatalog interface {
	Discover(ctx context.Context, flavour particle.Flavour) ([]particle.SampleInfo, error)
}

// SampleReader loads the rows of one sample file
type SampleReader interface {
	Read(ctx context.Context, info particle.SampleInfo) (*particle.Sample, error)
}
