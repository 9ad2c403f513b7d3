package dispatch

import (
	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
	pkgerrors "github.com/sweveninteriosolutions-wq/billing-backend/pkg/errors"
)

// Command enumerates the workflow operations the API layer can invoke.
// Every command carries an explicit set of roles allowed to run it.
type Command string

const (
	CommandStockReserve   Command = "stock.reserve"
	CommandStockRelease   Command = "stock.release"
	CommandStockDeduct    Command = "stock.deduct"
	CommandStockReplenish Command = "stock.replenish"
	CommandStockAdjust    Command = "stock.adjust"
	CommandStockTransfer  Command = "stock.transfer"
	CommandStockRead      Command = "stock.read"

	CommandThresholdSet  Command = "threshold.set"
	CommandThresholdRead Command = "threshold.read"

	CommandDocumentCreate  Command = "document.create"
	CommandDocumentApprove Command = "document.approve"
	CommandDocumentConvert Command = "document.convert"
	CommandDocumentInvoice Command = "document.invoice"
	CommandDocumentCancel  Command = "document.cancel"
	CommandDocumentRead    Command = "document.read"

	CommandPaymentApply Command = "payment.apply"
	CommandPaymentRead  Command = "payment.read"

	CommandPurchaseCreate  Command = "purchase.create"
	CommandPurchaseApprove Command = "purchase.approve"
	CommandPurchaseReceive Command = "purchase.receive"
	CommandPurchaseClose   Command = "purchase.close"
	CommandPurchaseCancel  Command = "purchase.cancel"
	CommandPurchaseRead    Command = "purchase.read"
)

var rolesByCommand = map[Command][]enums.ActorRole{
	CommandStockReserve:   {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},
	CommandStockRelease:   {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},
	CommandStockDeduct:    {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandStockReplenish: {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleProcurement},
	CommandStockAdjust:    {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandStockTransfer:  {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandStockRead:      {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier, enums.ActorRoleProcurement},

	CommandThresholdSet:  {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandThresholdRead: {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier, enums.ActorRoleProcurement},

	CommandDocumentCreate:  {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},
	CommandDocumentApprove: {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandDocumentConvert: {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},
	CommandDocumentInvoice: {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},
	CommandDocumentCancel:  {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandDocumentRead:    {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},

	CommandPaymentApply: {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},
	CommandPaymentRead:  {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleCashier},

	CommandPurchaseCreate:  {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleProcurement},
	CommandPurchaseApprove: {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandPurchaseReceive: {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleProcurement},
	CommandPurchaseClose:   {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandPurchaseCancel:  {enums.ActorRoleAdmin, enums.ActorRoleManager},
	CommandPurchaseRead:    {enums.ActorRoleAdmin, enums.ActorRoleManager, enums.ActorRoleProcurement},
}

// Authorize checks the principal's role against the command's allow list.
func Authorize(role enums.ActorRole, command Command) error {
	roles, ok := rolesByCommand[command]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, "unknown command").
			WithDetails(map[string]any{"command": string(command)})
	}
	if role == enums.ActorRoleAdmin {
		return nil
	}
	for _, allowed := range roles {
		if allowed == role {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "role is not allowed to run this command").
		WithDetails(map[string]any{
			"command": string(command),
			"role":    role.String(),
		})
}

// Allowed returns the roles permitted to run a command.
func Allowed(command Command) []enums.ActorRole {
	roles := rolesByCommand[command]
	out := make([]enums.ActorRole, len(roles))
	copy(out, roles)
	return out
}
