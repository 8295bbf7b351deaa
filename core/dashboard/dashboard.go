// Package dashboard aggregates the figures shown on the landing page of each role.
package dashboard

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/user"
)

const recentAlertsCount = 10

type Summary struct {
	Houses          int            `json:"houses"`
	Devices         int            `json:"devices"`
	DevicesByStatus map[string]int `json:"devices_by_status"`
	OpenAlerts      int            `json:"open_alerts"`
	OpenBySeverity  map[string]int `json:"open_alerts_by_severity"`
	RecentAlerts    []alert.Alert  `json:"recent_alerts"`
}

type (
	Service interface {
		// Summary is scoped to the houses of homeowners and global for staff.
		Summary(ctx context.Context, usr user.User) (Summary, error)
	}

	service struct {
		houseSvc  house.Service
		deviceSvc device.Service
		alertSvc  alert.Service
	}
)

var _ Service = (*service)(nil)

func NewService(houseSvc house.Service, deviceSvc device.Service, alertSvc alert.Service) Service {
	return &service{houseSvc: houseSvc, deviceSvc: deviceSvc, alertSvc: alertSvc}
}

func (svc *service) Summary(ctx context.Context, usr user.User) (Summary, error) {
	sum := Summary{
		DevicesByStatus: make(map[string]int, len(device.AllStatuses)),
		OpenBySeverity:  make(map[string]int, len(alert.AllSeverities)),
		RecentAlerts:    []alert.Alert{},
	}
	for _, s := range device.AllStatuses {
		sum.DevicesByStatus[s] = 0
	}
	for _, s := range alert.AllSeverities {
		sum.OpenBySeverity[s] = 0
	}

	houseFilter := &house.QueryFilter{}
	var houseIDs []string
	if usr.IsHomeowner() {
		houseFilter.OwnerIDs = []string{usr.ID}
	}
	houses, err := svc.houseSvc.Query(ctx, houseFilter, nil)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying houses")
	}
	sum.Houses = len(houses)
	if usr.IsHomeowner() {
		if len(houses) == 0 {
			return sum, nil
		}
		for _, h := range houses {
			houseIDs = append(houseIDs, h.ID)
		}
	}

	var (
		devices    []device.Device
		openAlerts []alert.Alert
		recent     []alert.Alert
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		devices, err = svc.deviceSvc.Query(gctx, &device.QueryFilter{HouseIDs: houseIDs}, nil)
		return errors.Wrap(err, "querying devices")
	})
	g.Go(func() (err error) {
		openAlerts, err = svc.alertSvc.Query(gctx, &alert.QueryFilter{HouseIDs: houseIDs, Statuses: alert.OpenStatuses}, nil)
		return errors.Wrap(err, "querying open alerts")
	})
	g.Go(func() (err error) {
		recent, err = svc.alertSvc.Query(gctx,
			&alert.QueryFilter{HouseIDs: houseIDs, Limit: recentAlertsCount},
			[]core.DBOrdering{{Field: "created_at", Ascending: false}},
		)
		return errors.Wrap(err, "querying recent alerts")
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	sum.Devices = len(devices)
	for _, d := range devices {
		sum.DevicesByStatus[d.Status]++
	}
	sum.OpenAlerts = len(openAlerts)
	for _, a := range openAlerts {
		sum.OpenBySeverity[a.Severity]++
	}
	if len(recent) > 0 {
		sum.RecentAlerts = recent
	}
	return sum, nil
}
