package tools

import (
	"context"
	"fmt"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

const serviceDomesticLabor = "domestic_labor"

func (ts *toolset) getDomesticLaborRequestsTool() *Tool {
	return &Tool{
		Name:        "getDomesticLaborRequests",
		Description: "List the user's domestic worker recruitment requests.",
		Kind:        KindRead,
		Service:     serviceDomesticLabor,
		Execute: func(ctx context.Context, params map[string]any) Result {
			var reqs []domain.DomesticLaborRequest
			if err := ts.store.FindByUser(ctx, store.DomesticLaborRequests, stringParam(params, "user_id"), store.Query{}, &reqs); err != nil {
				return ts.upstream("getDomesticLaborRequests", err)
			}
			return OK(reqs, fmt.Sprintf("%d request(s)", len(reqs)))
		},
	}
}

func (ts *toolset) createDomesticLaborRequestTool() *Tool {
	return &Tool{
		Name:        "createDomesticLaborRequest",
		Description: "Submit a request to recruit a domestic worker (housemaid, driver, cook, ...).",
		Parameters: Schema{
			Properties: map[string]Property{
				"worker_profession":  {Type: TypeString, Description: "Profession of the worker"},
				"worker_nationality": {Type: TypeString},
				"notes":              {Type: TypeString},
			},
			Required: []string{"worker_profession"},
		},
		Kind:        KindTicketed,
		Service:     serviceDomesticLabor,
		TicketTitle: "Domestic labor request submitted",
		Execute: func(ctx context.Context, params map[string]any) Result {
			req := &domain.DomesticLaborRequest{
				UserID:            stringParam(params, "user_id"),
				RequestNumber:     referenceNumber("DLR", ts.now()),
				WorkerProfession:  stringParam(params, "worker_profession"),
				WorkerNationality: stringParam(params, "worker_nationality"),
				Notes:             stringParam(params, "notes"),
				Status:            domain.RequestPending,
			}
			if err := ts.store.Insert(ctx, store.DomesticLaborRequests, req); err != nil {
				return ts.upstream("createDomesticLaborRequest", err)
			}
			res := OK(req, fmt.Sprintf("تم تقديم الطلب رقم %s. / Request %s submitted.", req.RequestNumber, req.RequestNumber))
			res.Summary = fmt.Sprintf("Domestic labor request %s for a %s", req.RequestNumber, req.WorkerProfession)
			return res
		},
	}
}

func (ts *toolset) cancelDomesticLaborRequestTool() *Tool {
	return &Tool{
		Name:        "cancelDomesticLaborRequest",
		Description: "Cancel one of the user's pending domestic worker requests.",
		Parameters: Schema{
			Properties: map[string]Property{
				"request_id": {Type: TypeString, Description: "Request id from getDomesticLaborRequests"},
			},
			Required: []string{"request_id"},
		},
		Kind:        KindTicketed,
		Service:     serviceDomesticLabor,
		TicketTitle: "Domestic labor request cancelled",
		Execute: func(ctx context.Context, params map[string]any) Result {
			userID := stringParam(params, "user_id")
			var req domain.DomesticLaborRequest
			err := ts.loadOwned(ctx, store.DomesticLaborRequests, stringParam(params, "request_id"), userID, &req)
			if res, ok := ts.lookup("cancelDomesticLaborRequest", err); !ok {
				return res
			}
			if req.Status != domain.RequestPending {
				return Fail(ErrCodeValidation, msgBadStatus)
			}
			if err := ts.store.Update(ctx, store.DomesticLaborRequests, req.ID, map[string]any{
				"status": domain.RequestCancelled,
			}); err != nil {
				return ts.upstream("cancelDomesticLaborRequest", err)
			}
			req.Status = domain.RequestCancelled

			res := OK(req, fmt.Sprintf("تم إلغاء الطلب %s. / Request %s cancelled.", req.RequestNumber, req.RequestNumber))
			res.Summary = "Domestic labor request " + req.RequestNumber + " cancelled"
			return res
		},
	}
}
