package fsvol

import (
	"strings"

	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// HostMounts returns a Spec for every filesystem mounted on this machine, in
// mount table order. Each Spec serves its mountpoint read-only through
// afero, whatever the mount flags say; ReadOnly reflects the mount itself.
//
// filter may be nil. See mountinfo.FilterFunc.
func HostMounts(filter mountinfo.FilterFunc) ([]Spec, error) {
	infos, err := mountinfo.GetMounts(filter)
	if err != nil {
		return nil, errors.Wrap(err, "reading mount table")
	}
	var specs []Spec
	for _, mi := range infos {
		specs = append(specs, Spec{
			FSType:     mi.FSType,
			Device:     mi.Source,
			Mountpoint: mi.Mountpoint,
			ReadOnly:   hasOption(mi.Options, "ro") || hasOption(mi.VFSOptions, "ro") || statReadOnly(mi.Mountpoint),
			FS:         afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), mi.Mountpoint)),
		})
	}
	return specs, nil
}

func hasOption(opts, want string) bool {
	for _, o := range strings.Split(opts, ",") {
		if o == want {
			return true
		}
	}
	return false
}
