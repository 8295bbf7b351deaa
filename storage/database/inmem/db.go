// Package inmemdb implements every repository in memory. It backs the API tests and the `inmem` database engine.
package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/maintenance"
	"github.com/smarthomecloud/backend/core/surveillance"
	"github.com/smarthomecloud/backend/core/telemetry"
	"github.com/smarthomecloud/backend/core/user"
)

// DB holds all tables behind a single lock so cascading deletes stay consistent.
type DB struct {
	mu sync.RWMutex

	users       map[string]user.User
	houses      map[string]house.House
	devices     map[string]device.Device
	alerts      map[string]alert.Alert
	rules       map[string]automation.Rule
	readings    []telemetry.SensorReading
	feeds       map[string]surveillance.Feed
	maintenance map[string]maintenance.Record
	configLogs  []configlog.Entry

	readingSeq int64
	logSeq     int64
}

func Open() *DB {
	db := new(DB)
	db.Reset()
	return db
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = make(map[string]user.User)
	db.houses = make(map[string]house.House)
	db.devices = make(map[string]device.Device)
	db.alerts = make(map[string]alert.Alert)
	db.rules = make(map[string]automation.Rule)
	db.readings = nil
	db.feeds = make(map[string]surveillance.Feed)
	db.maintenance = make(map[string]maintenance.Record)
	db.configLogs = nil
	db.readingSeq = 0
	db.logSeq = 0
}

func (db *DB) Ping(context.Context) error { return nil }

func newID() string { return uuid.New().String() }

func (db *DB) deleteHouseCascade(id string) {
	delete(db.houses, id)
	for did, d := range db.devices {
		if d.HouseID == id {
			db.deleteDeviceCascade(did)
		}
	}
	for aid, a := range db.alerts {
		if a.HouseID == id {
			delete(db.alerts, aid)
		}
	}
	for rid, r := range db.rules {
		if r.HouseID == id {
			delete(db.rules, rid)
		}
	}
}

func (db *DB) deleteDeviceCascade(id string) {
	delete(db.devices, id)
	for aid, a := range db.alerts {
		if a.DeviceID == id {
			a.DeviceID = ""
			db.alerts[aid] = a
		}
	}
	for rid, r := range db.rules {
		if r.TargetDeviceID == id {
			r.TargetDeviceID = ""
			db.rules[rid] = r
		}
	}
	for fid, f := range db.feeds {
		if f.DeviceID == id {
			delete(db.feeds, fid)
		}
	}
	for mid, m := range db.maintenance {
		if m.DeviceID == id {
			delete(db.maintenance, mid)
		}
	}
	readings := db.readings[:0]
	for _, r := range db.readings {
		if r.DeviceID != id {
			readings = append(readings, r)
		}
	}
	db.readings = readings
	logs := db.configLogs[:0]
	for _, e := range db.configLogs {
		if e.DeviceID != id {
			logs = append(logs, e)
		}
	}
	db.configLogs = logs
}

func (db *DB) deleteUserCascade(id string) {
	delete(db.users, id)
	for hid, h := range db.houses {
		if h.OwnerID == id {
			db.deleteHouseCascade(hid)
		}
	}
	for aid, a := range db.alerts {
		if a.AcknowledgedBy == id {
			a.AcknowledgedBy = ""
		}
		if a.ResolvedBy == id {
			a.ResolvedBy = ""
		}
		db.alerts[aid] = a
	}
	for mid, m := range db.maintenance {
		if m.TechnicianID == id {
			m.TechnicianID = ""
			db.maintenance[mid] = m
		}
	}
	for i, e := range db.configLogs {
		if e.ChangedBy == id {
			db.configLogs[i].ChangedBy = ""
		}
	}
}

// fieldGetters map an ordering field to the value it sorts on.
type fieldGetters[T any] map[string]func(T) interface{}

// orderBy sorts items by ordering, ignoring unknown fields. fallback breaks ties.
func orderBy[T any](items []T, ordering []core.DBOrdering, getters fieldGetters[T], fallback func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ordering {
			get, ok := getters[ord.Field]
			if !ok {
				continue
			}
			c := compare(get(items[i]), get(items[j]))
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		if fallback != nil {
			return fallback(items[i], items[j])
		}
		return false
	})
}

func compare(a, b interface{}) int {
	switch x := a.(type) {
	case string:
		y := b.(string)
		return strings.Compare(strings.ToLower(x), strings.ToLower(y))
	case time.Time:
		y := b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
	case int:
		y := b.(int)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case bool:
		y := b.(bool)
		switch {
		case !x && y:
			return -1
		case x && !y:
			return 1
		}
	}
	return 0
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// inFilter reports whether v passes a list filter. An empty list lets everything through.
func inFilter(v string, list []string) bool {
	return len(list) == 0 || core.StringInSlice(v, list)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
