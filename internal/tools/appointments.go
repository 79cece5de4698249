package tools

import (
	"context"
	"fmt"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

const serviceAppointments = "appointments"

func (ts *toolset) getAppointmentsTool() *Tool {
	return &Tool{
		Name:        "getAppointments",
		Description: "List the user's labor office appointments, soonest first.",
		Parameters: Schema{
			Properties: map[string]Property{
				"status": {Type: TypeString, Enum: []string{domain.AppointmentScheduled, domain.AppointmentCancelled, domain.AppointmentCompleted}},
			},
		},
		Kind:    KindRead,
		Service: serviceAppointments,
		Execute: func(ctx context.Context, params map[string]any) Result {
			q := store.Query{OrderBy: "appointment_date", Asc: true}
			if status := stringParam(params, "status"); status != "" {
				q.Where = map[string]any{"status": status}
			}
			var appts []domain.LaborAppointment
			if err := ts.store.FindByUser(ctx, store.LaborAppointments, stringParam(params, "user_id"), q, &appts); err != nil {
				return ts.upstream("getAppointments", err)
			}
			return OK(appts, fmt.Sprintf("%d appointment(s)", len(appts)))
		},
	}
}

func (ts *toolset) scheduleAppointmentTool() *Tool {
	return &Tool{
		Name:        "scheduleAppointment",
		Description: "Book an appointment at a labor office for a given service and date.",
		Parameters: Schema{
			Properties: map[string]Property{
				"office":       {Type: TypeString, Description: "Labor office name or city"},
				"service_type": {Type: TypeString, Description: "Service the visit is for, e.g. contract_renewal, complaint"},
				"date":         {Type: TypeString, Description: "Date and optional time, YYYY-MM-DD or YYYY-MM-DDTHH:MM"},
				"notes":        {Type: TypeString},
			},
			Required: []string{"office", "service_type", "date"},
		},
		Kind:        KindTicketed,
		Service:     serviceAppointments,
		TicketTitle: "Appointment booked",
		Execute:     ts.scheduleAppointment,
	}
}

func (ts *toolset) scheduleAppointment(ctx context.Context, params map[string]any) Result {
	when, err := parseDate(stringParam(params, "date"))
	if err != nil {
		return Fail(ErrCodeValidation, fmt.Sprintf(msgInvalidParam, "date", "date"))
	}
	if domain.DaysUntil(ts.now(), when) < 0 {
		return Fail(ErrCodeValidation, msgPastDate)
	}

	appt := &domain.LaborAppointment{
		UserID:          stringParam(params, "user_id"),
		Office:          stringParam(params, "office"),
		ServiceType:     stringParam(params, "service_type"),
		AppointmentDate: when,
		Status:          domain.AppointmentScheduled,
		Notes:           stringParam(params, "notes"),
	}
	if err := ts.store.Insert(ctx, store.LaborAppointments, appt); err != nil {
		return ts.upstream("scheduleAppointment", err)
	}

	day := when.Format("2006-01-02")
	res := OK(appt, fmt.Sprintf("تم حجز الموعد في %s بتاريخ %s. / Appointment booked at %s on %s.", appt.Office, day, appt.Office, day))
	res.Summary = fmt.Sprintf("Appointment for %s at %s on %s", appt.ServiceType, appt.Office, day)
	return res
}

func (ts *toolset) cancelAppointmentTool() *Tool {
	return &Tool{
		Name:        "cancelAppointment",
		Description: "Cancel one of the user's scheduled appointments.",
		Parameters: Schema{
			Properties: map[string]Property{
				"appointment_id": {Type: TypeString, Description: "Appointment id from getAppointments"},
				"reason":         {Type: TypeString},
			},
			Required: []string{"appointment_id"},
		},
		Kind:        KindTicketed,
		Service:     serviceAppointments,
		TicketTitle: "Appointment cancelled",
		Execute: func(ctx context.Context, params map[string]any) Result {
			userID := stringParam(params, "user_id")
			var appt domain.LaborAppointment
			err := ts.loadOwned(ctx, store.LaborAppointments, stringParam(params, "appointment_id"), userID, &appt)
			if res, ok := ts.lookup("cancelAppointment", err); !ok {
				return res
			}
			if appt.Status != domain.AppointmentScheduled {
				return Fail(ErrCodeValidation, msgBadStatus)
			}

			patch := map[string]any{"status": domain.AppointmentCancelled}
			if reason := stringParam(params, "reason"); reason != "" {
				patch["notes"] = reason
				appt.Notes = reason
			}
			if err := ts.store.Update(ctx, store.LaborAppointments, appt.ID, patch); err != nil {
				return ts.upstream("cancelAppointment", err)
			}
			appt.Status = domain.AppointmentCancelled

			day := appt.AppointmentDate.Format("2006-01-02")
			res := OK(appt, fmt.Sprintf("تم إلغاء الموعد بتاريخ %s. / Appointment on %s cancelled.", day, day))
			res.Summary = fmt.Sprintf("Appointment at %s on %s cancelled", appt.Office, day)
			return res
		},
	}
}
