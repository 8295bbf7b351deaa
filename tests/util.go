// Package testutil seeds repositories for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := core.Now()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:         name,
		Email:        email,
		Role:         role,
		IsActive:     isActive,
		AuthProvider: user.AuthProviderLocal,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateHouse(t *testing.T, repo house.Repository, ownerID, name string) house.House {
	t.Helper()
	now := core.Now()
	h, err := repo.CreateHouse(context.Background(), house.House{
		OwnerID:   ownerID,
		Name:      name,
		Timezone:  "UTC",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("createHouse() failed: %v", err)
	}
	return h
}

func CreateDevice(t *testing.T, repo device.Repository, houseID, name, typ, serial, status string) device.Device {
	t.Helper()
	now := core.Now()
	d, err := repo.CreateDevice(context.Background(), device.Device{
		HouseID:      houseID,
		Name:         name,
		Type:         typ,
		SerialNumber: serial,
		Status:       status,
		Config:       device.Config{},
		LastSeen:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("createDevice() failed: %v", err)
	}
	return d
}

func CreateAlert(t *testing.T, repo alert.Repository, houseID, deviceID, typ, severity, status string, createdAt ...time.Time) alert.Alert {
	t.Helper()
	tstamp := core.Now()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	a, err := repo.CreateAlert(context.Background(), alert.Alert{
		HouseID:   houseID,
		DeviceID:  deviceID,
		Type:      typ,
		Severity:  severity,
		Status:    status,
		Title:     typ + " alert",
		Source:    alert.SourceManual,
		CreatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("createAlert() failed: %v", err)
	}
	return a
}
