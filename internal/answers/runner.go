package answers

import (
	"errors"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/common"
	"github.com/osbuild/osbuild-storage/internal/disk"
	"github.com/osbuild/osbuild-storage/internal/storage"
)

// actionData is the union of the attributes any manual action accepts.
type actionData struct {
	Size         string     `mapstructure:"size"`
	FSType       string     `mapstructure:"fstype"`
	Mount        string     `mapstructure:"mount"`
	Name         string     `mapstructure:"name"`
	Level        string     `mapstructure:"level"`
	Devices      [][]string `mapstructure:"devices"`
	SpareDevices [][]string `mapstructure:"spare_devices"`
	Password     string     `mapstructure:"password"`
	UseSwap      bool       `mapstructure:"use_swap"`
}

type Runner struct {
	ctrl *storage.Controller
	log  logrus.FieldLogger
}

func NewRunner(ctrl *storage.Controller, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{ctrl: ctrl, log: log}
}

// Run applies the answers to the model and returns the rendered
// configuration. Manual answers must end with a "done" action.
func (r *Runner) Run(a *Answers) ([]disk.Action, error) {
	m := r.ctrl.Model()
	if a.Guided {
		disks := m.AllDisks()
		if a.GuidedIndex >= len(disks) {
			return nil, &storage.ResolutionError{Op: "guided", Reason: "no disk at guided-index"}
		}
		r.log.WithField("disk", disks[a.GuidedIndex].Path).Infof("answers: guided %s", a.GuidedMethod)
		if err := r.ctrl.Guided(disks[a.GuidedIndex].ID(), a.GuidedMethod); err != nil {
			return nil, err
		}
		return r.finish()
	}

	for i, action := range a.Manual {
		name := strings.ReplaceAll(strings.ToUpper(action.Action), "-", "_")
		r.log.WithField("index", i).Debugf("answers: %s %v", name, action.Obj)
		if name == "DONE" {
			return r.finish()
		}
		if err := r.apply(m, name, action); err != nil {
			return nil, err
		}
	}
	return nil, &storage.ResolutionError{Op: "answers", Reason: "manual answers did not end with done"}
}

func (r *Runner) finish() ([]disk.Action, error) {
	actions, err := r.ctrl.Finish()
	if errors.Is(err, storage.ErrIncomplete) {
		return nil, &storage.ResolutionError{Op: "answers", Reason: "answers did not provide complete fs config"}
	}
	return actions, err
}

func (r *Runner) apply(m *disk.Model, name string, action Action) error {
	data, err := decodeData(action.Data)
	if err != nil {
		return &storage.ResolutionError{Op: name, Reason: err.Error()}
	}

	var target disk.ID
	if len(action.Obj) > 0 {
		if target, err = Resolve(m, action.Obj); err != nil {
			return err
		}
	}

	switch name {
	case "PARTITION":
		spec, err := data.spec()
		if err != nil {
			return err
		}
		_, err = r.ctrl.PartitionDiskHandler(target, "", spec)
		return err
	case "CREATE_LV":
		spec, err := data.spec()
		if err != nil {
			return err
		}
		_, err = r.ctrl.LogicalVolumeHandler(target, "", spec)
		return err
	case "FORMAT":
		spec, err := data.spec()
		if err != nil {
			return err
		}
		_, err = r.ctrl.AddFormatHandler(target, spec)
		return err
	case "EDIT":
		return r.edit(m, target, data)
	case "DELETE":
		return r.ctrl.Delete(target)
	case "REFORMAT":
		return r.ctrl.Reformat(target)
	case "MAKE_BOOT":
		return r.ctrl.MakeBootDisk(target)
	case "CREATE_RAID":
		spec, err := data.raidSpec(m)
		if err != nil {
			return err
		}
		_, err = r.ctrl.RaidHandler("", spec)
		return err
	case "CREATE_VG":
		spec, err := data.volGroupSpec(m)
		if err != nil {
			return err
		}
		_, err = r.ctrl.VolGroupHandler("", spec)
		return err
	}
	return &storage.ResolutionError{Op: "answers", Reason: "unknown action " + action.Action}
}

func (r *Runner) edit(m *disk.Model, target disk.ID, data *actionData) error {
	if target == "" {
		return &storage.ResolutionError{Op: "EDIT", Reason: "missing obj"}
	}
	switch e := m.Get(target).(type) {
	case *disk.Partition:
		spec, err := data.spec()
		if err != nil {
			return err
		}
		_, err = r.ctrl.PartitionDiskHandler(e.Device, e.ID(), spec)
		return err
	case *disk.LogicalVolume:
		spec, err := data.spec()
		if err != nil {
			return err
		}
		_, err = r.ctrl.LogicalVolumeHandler(e.VolumeGroup, e.ID(), spec)
		return err
	case *disk.Raid:
		spec, err := data.raidSpec(m)
		if err != nil {
			return err
		}
		_, err = r.ctrl.RaidHandler(e.ID(), spec)
		return err
	case *disk.VolumeGroup:
		spec, err := data.volGroupSpec(m)
		if err != nil {
			return err
		}
		_, err = r.ctrl.VolGroupHandler(e.ID(), spec)
		return err
	}
	return &storage.ResolutionError{Op: "EDIT", Reason: "cannot edit " + string(target)}
}

func decodeData(raw map[string]interface{}) (*actionData, error) {
	var data actionData
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &data,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &data, nil
}

func (d *actionData) spec() (storage.Spec, error) {
	spec := storage.Spec{
		Name:    d.Name,
		FSType:  d.FSType,
		Mount:   d.Mount,
		UseSwap: d.UseSwap,
	}
	if d.Size != "" {
		size, err := common.DataSizeToUint64(d.Size)
		if err != nil {
			return spec, &storage.ResolutionError{Op: "answers", Reason: err.Error()}
		}
		spec.Size = size
	}
	return spec, nil
}

func resolveAll(m *disk.Model, addrs [][]string) ([]disk.ID, error) {
	ids := make([]disk.ID, 0, len(addrs))
	for _, addr := range addrs {
		id, err := Resolve(m, addr)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *actionData) raidSpec(m *disk.Model) (storage.RaidSpec, error) {
	spec := storage.RaidSpec{Name: d.Name}
	level, err := disk.ParseRaidLevel(d.Level)
	if err != nil {
		return spec, &storage.ResolutionError{Op: "answers", Reason: err.Error()}
	}
	spec.Level = level
	if spec.Devices, err = resolveAll(m, d.Devices); err != nil {
		return spec, err
	}
	if spec.SpareDevices, err = resolveAll(m, d.SpareDevices); err != nil {
		return spec, err
	}
	return spec, nil
}

func (d *actionData) volGroupSpec(m *disk.Model) (storage.VolGroupSpec, error) {
	devices, err := resolveAll(m, d.Devices)
	if err != nil {
		return storage.VolGroupSpec{}, err
	}
	return storage.VolGroupSpec{Name: d.Name, Devices: devices, Password: d.Password}, nil
}
