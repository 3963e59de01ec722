package reconcile

import (
	"context"
	"errors"

	"github.com/joshp123/thermosync/internal/thermostat"
)

type change struct {
	field thermostat.Field
	value any
}

// diff is the outcome of comparing an observation with the stored device.
type diff struct {
	patch   thermostat.Patch
	changes []change
	paused  *bool // set when the effective pause state flips
}

func (d *diff) target(dev thermostat.Device, v *float64) {
	if v == nil {
		return
	}
	clamped := thermostat.ClampTarget(*v)
	if dev.TargetTemperature != nil && *dev.TargetTemperature == clamped {
		return
	}
	d.patch.TargetTemperature = &clamped
	d.changes = append(d.changes, change{field: thermostat.FieldTargetTemperature, value: clamped})
}

func (d *diff) room(dev thermostat.Device, v *float64) {
	if v == nil {
		return
	}
	if dev.RoomTemperature != nil && *dev.RoomTemperature == *v {
		return
	}
	room := *v
	d.patch.RoomTemperature = &room
	d.changes = append(d.changes, change{field: thermostat.FieldRoomTemperature, value: room})
}

func (d *diff) pause(dev thermostat.Device, v *bool) {
	if v == nil {
		return
	}
	if dev.Paused != nil && *dev.Paused == *v {
		return
	}
	paused := *v
	d.patch.Paused = &paused
	d.changes = append(d.changes, change{field: thermostat.FieldPaused, value: paused})
	if dev.IsPaused() != paused {
		d.paused = &paused
	}
}

func (d *diff) observe(dev thermostat.Device, snap thermostat.Snapshot) {
	d.target(dev, snap.TargetTemperature)
	d.room(dev, snap.RoomTemperature)
	d.pause(dev, snap.Paused())
}

func (e *Engine) commit(id string, d diff) error {
	if d.patch.Empty() {
		return nil
	}
	if _, err := e.store.Update(id, d.patch); err != nil {
		return err
	}
	for _, c := range d.changes {
		notificationsTotal.WithLabelValues("state_changed").Inc()
		e.listener.OnStateChanged(id, c.field, c.value)
	}
	if d.paused != nil {
		notificationsTotal.WithLabelValues("paused_transition").Inc()
		e.listener.OnPausedTransition(id, *d.paused)
	}
	return nil
}

func (e *Engine) applyPolled(id string, snap thermostat.Snapshot) error {
	dev, err := e.store.Get(id)
	if err != nil {
		return err
	}
	var d diff
	d.observe(dev, snap)

	recovered := !dev.Available
	if dev.ConsecutiveFailures != 0 {
		zero := 0
		d.patch.ConsecutiveFailures = &zero
	}
	if recovered {
		d.patch.Available = thermostat.Bool(true)
	}
	if err := e.commit(id, d); err != nil {
		return err
	}
	if recovered {
		notificationsTotal.WithLabelValues("availability_changed").Inc()
		e.listener.OnAvailabilityChanged(id, true, "")
	}
	return nil
}

func (e *Engine) applyPollFailed(id string, cause error) error {
	dev, err := e.store.Get(id)
	if err != nil {
		return err
	}
	failures := dev.ConsecutiveFailures + 1
	patch := thermostat.Patch{ConsecutiveFailures: &failures}
	markDown := dev.Available && failures >= e.unavailableAfter
	if markDown {
		patch.Available = thermostat.Bool(false)
	}
	if _, err := e.store.Update(id, patch); err != nil {
		return err
	}

	reason := "poll failed"
	if cause != nil {
		reason = cause.Error()
	}
	e.logger.Warn("poll failed", "device_id", id, "consecutive_failures", failures, "err", cause)
	if markDown {
		notificationsTotal.WithLabelValues("availability_changed").Inc()
		e.listener.OnAvailabilityChanged(id, false, reason)
	}
	return nil
}

func (e *Engine) applyWebhook(id string, body thermostat.Snapshot) error {
	dev, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if !dev.LastLocalWriteAt.IsZero() && e.now().Sub(dev.LastLocalWriteAt) < e.echoWindow {
		echoSuppressed.Inc()
		e.logger.Debug("webhook ignored inside echo window", "device_id", id)
		return nil
	}
	var d diff
	d.observe(dev, body)
	return e.commit(id, d)
}

func (e *Engine) applyLocalWrite(id string, w thermostat.Write) error {
	dev, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if w.Empty() {
		return nil
	}

	now := e.now()
	d := diff{patch: thermostat.Patch{LastLocalWriteAt: &now}}
	d.target(dev, w.TargetTemperature)
	d.pause(dev, w.Paused)
	if err := e.commit(id, d); err != nil {
		return err
	}

	var update thermostat.Update
	if w.TargetTemperature != nil {
		update.TargetTemperature = thermostat.Float(thermostat.ClampTarget(*w.TargetTemperature))
	}
	e.dispatch(dev.Credentials(), update, w.Paused)
	return nil
}

// dispatch sends the write to the vendor without blocking the device queue.
// Failures keep the optimistic value; the next poll corrects it.
func (e *Engine) dispatch(cred thermostat.Credentials, update thermostat.Update, paused *bool) {
	if e.writer == nil {
		return
	}
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()
		if !update.Empty() {
			ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
			_, err := e.writer.UpdateThermostat(ctx, cred, update)
			cancel()
			e.recordWrite(cred.DeviceID, "update", err)
		}
		if paused != nil {
			ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
			err := e.writer.SetPause(ctx, cred, *paused)
			cancel()
			e.recordWrite(cred.DeviceID, "pause", err)
		}
	}()
}

func (e *Engine) recordWrite(id, op string, err error) {
	if err == nil {
		vendorWrites.WithLabelValues(op, "ok").Inc()
		return
	}
	if !e.store.Has(id) {
		vendorWrites.WithLabelValues(op, "discarded").Inc()
		return
	}
	result := "error"
	if errors.Is(err, thermostat.ErrTimeout) {
		result = "timeout"
	}
	vendorWrites.WithLabelValues(op, result).Inc()
	e.logger.Warn("vendor write failed", "device_id", id, "op", op, "err", err)
}
