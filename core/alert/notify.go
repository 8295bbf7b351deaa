package alert

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/house"
)

// NewEmailNotifier returns a Listener emailing the house owner about alerts at least as severe as minSeverity.
func NewEmailNotifier(houseSvc house.Service, mailSvc core.EmailService, minSeverity string) Listener {
	return func(ctx context.Context, a Alert) error {
		if !SeverityAtLeast(a.Severity, minSeverity) {
			return nil
		}
		owner, h, err := houseSvc.Owner(ctx, a.HouseID)
		if err != nil {
			return errors.Wrap(err, "finding house owner")
		}
		if !owner.IsActive || owner.Email == "" {
			return nil
		}
		mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: owner.Name, Address: owner.Email}},
			Subject:      "[" + a.Severity + "] " + a.Title,
			TemplateName: "alert_notification",
			TemplateData: map[string]string{
				"AlertID":   a.ID,
				"Severity":  a.Severity,
				"Title":     a.Title,
				"Message":   a.Message,
				"HouseName": h.Name,
			},
		})
		return nil
	}
}
