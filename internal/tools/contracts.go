package tools

import (
	"context"
	"fmt"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

const (
	serviceContracts     = "contracts"
	defaultRenewalMonths = 12
	maxRenewalMonths     = 60
)

func (ts *toolset) getContractsTool() *Tool {
	return &Tool{
		Name:        "getContracts",
		Description: "List the user's employment contracts with employer, status and end date.",
		Parameters: Schema{
			Properties: map[string]Property{
				"status": {Type: TypeString, Enum: []string{domain.ContractActive, domain.ContractExpired, domain.ContractTerminated}},
			},
		},
		Kind:    KindRead,
		Service: serviceContracts,
		Execute: func(ctx context.Context, params map[string]any) Result {
			q := store.Query{OrderBy: "end_date"}
			if status := stringParam(params, "status"); status != "" {
				q.Where = map[string]any{"status": status}
			}
			var contracts []domain.EmploymentContract
			if err := ts.store.FindByUser(ctx, store.EmploymentContracts, stringParam(params, "user_id"), q, &contracts); err != nil {
				return ts.upstream("getContracts", err)
			}
			return OK(contracts, fmt.Sprintf("%d contract(s)", len(contracts)))
		},
	}
}

func (ts *toolset) renewContractTool() *Tool {
	return &Tool{
		Name: "renewContract",
		Description: "Renew one of the user's employment contracts. Extends the end date by the " +
			"given number of months (default 12). Terminated contracts cannot be renewed.",
		Parameters: Schema{
			Properties: map[string]Property{
				"contract_id":     {Type: TypeString, Description: "Contract id from getContracts"},
				"duration_months": {Type: TypeInteger, Description: "Renewal length in months (1-60)"},
			},
			Required: []string{"contract_id"},
		},
		Kind:        KindTicketed,
		Service:     serviceContracts,
		TicketTitle: "Contract renewal",
		Execute:     ts.renewContract,
	}
}

func (ts *toolset) renewContract(ctx context.Context, params map[string]any) Result {
	userID := stringParam(params, "user_id")

	var contract domain.EmploymentContract
	err := ts.loadOwned(ctx, store.EmploymentContracts, stringParam(params, "contract_id"), userID, &contract)
	if res, ok := ts.lookup("renewContract", err); !ok {
		return res
	}
	if contract.Status == domain.ContractTerminated {
		return Fail(ErrCodeValidation, msgBadStatus)
	}

	months := defaultRenewalMonths
	if n, ok := intParam(params, "duration_months"); ok {
		months = n
	}
	if months < 1 || months > maxRenewalMonths {
		return Fail(ErrCodeValidation, fmt.Sprintf(msgInvalidParam, "duration_months", "duration_months"))
	}

	// Renewal runs from the later of today and the current end date.
	from := contract.EndDate
	if now := ts.now().UTC(); from.Before(now) {
		from = now
	}
	newEnd := from.AddDate(0, months, 0)

	if err := ts.store.Update(ctx, store.EmploymentContracts, contract.ID, map[string]any{
		"end_date":      newEnd,
		"status":        domain.ContractActive,
		"renewal_count": contract.RenewalCount + 1,
	}); err != nil {
		return ts.upstream("renewContract", err)
	}
	contract.EndDate = newEnd
	contract.Status = domain.ContractActive
	contract.RenewalCount++

	res := OK(contract, fmt.Sprintf("تم تجديد العقد مع %s حتى %s. / Contract with %s renewed until %s.",
		contract.EmployerName, newEnd.Format("2006-01-02"), contract.EmployerName, newEnd.Format("2006-01-02")))
	res.Summary = fmt.Sprintf("Contract with %s renewed for %d months until %s", contract.EmployerName, months, newEnd.Format("2006-01-02"))
	return res
}
