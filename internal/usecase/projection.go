package usecase

import (
	"time"

	"app/internal/domain/model"
)

// UI向けのアクション。Kindはフロント側のルーティングキー。
type Action struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

type DeadlineInfo struct {
	ContactDeadline       *time.Time `json:"contact_deadline,omitempty"`
	PaymentDeadline       *time.Time `json:"payment_deadline,omitempty"`
	AutoReleaseAt         *time.Time `json:"auto_release_at,omitempty"`
	ContactDeadlineMissed bool       `json:"contact_deadline_missed"`
	PaymentDeadlineMissed bool       `json:"payment_deadline_missed"`
}

type StateProjection struct {
	State            model.PurchaseState `json:"state"`
	Label            string              `json:"label"`
	Tone             string              `json:"tone"`
	PrimaryAction    Action              `json:"primary_action"`
	SecondaryActions []Action            `json:"secondary_actions"`
}

var (
	actionContact        = Action{Kind: "contact", Label: "取引連絡をする"}
	actionPayProtected   = Action{Kind: "pay_protected", Label: "あんしん決済で支払う"}
	actionMarkPaid       = Action{Kind: "mark_paid", Label: "振込を報告する"}
	actionConfirmPayment = Action{Kind: "confirm_payment", Label: "入金を確認する"}
	actionMarkShipped    = Action{Kind: "mark_shipped", Label: "発送を登録する"}
	actionConfirmReceipt = Action{Kind: "confirm_receipt", Label: "受け取りを確認する"}
	actionOpenDispute    = Action{Kind: "open_dispute", Label: "異議を申し立てる"}
	actionViewDispute    = Action{Kind: "view_dispute", Label: "異議の状況を見る"}
	actionViewDetails    = Action{Kind: "view_details", Label: "取引内容を見る"}
)

// ProjectState は(状態, 期限情報, 保護決済が使えるか)から表示用の定義を組み立てる。
// 副作用なしの純粋な読み取りビュー。永続化の都合をここに持ち込まない。
// どの状態でもprimaryはちょうど1つ。
func ProjectState(state model.PurchaseState, d DeadlineInfo, protectionEligible bool) StateProjection {
	switch state {
	case model.StateContactPending:
		tone := "info"
		if d.ContactDeadlineMissed {
			tone = "warn"
		}
		// 保護決済が使えるなら連絡を待たずに支払える。支払いをprimaryに昇格。
		if protectionEligible {
			return StateProjection{
				State:            state,
				Label:            "取引連絡待ち",
				Tone:             tone,
				PrimaryAction:    actionPayProtected,
				SecondaryActions: []Action{actionContact},
			}
		}
		return StateProjection{
			State:            state,
			Label:            "取引連絡待ち",
			Tone:             tone,
			PrimaryAction:    actionContact,
			SecondaryActions: []Action{},
		}

	case model.StatePaymentPending:
		tone := "info"
		if d.PaymentDeadlineMissed {
			tone = "warn"
		}
		if protectionEligible {
			return StateProjection{
				State:            state,
				Label:            "支払い待ち",
				Tone:             tone,
				PrimaryAction:    actionPayProtected,
				SecondaryActions: []Action{actionMarkPaid, actionOpenDispute},
			}
		}
		return StateProjection{
			State:            state,
			Label:            "支払い待ち",
			Tone:             tone,
			PrimaryAction:    actionMarkPaid,
			SecondaryActions: []Action{actionOpenDispute},
		}

	case model.StatePaymentConfirmed:
		return StateProjection{
			State:            state,
			Label:            "支払い確認済み",
			Tone:             "info",
			PrimaryAction:    actionMarkShipped,
			SecondaryActions: []Action{actionOpenDispute},
		}

	case model.StateShipped:
		return StateProjection{
			State:            state,
			Label:            "発送待ち",
			Tone:             "info",
			PrimaryAction:    actionMarkShipped,
			SecondaryActions: []Action{actionOpenDispute},
		}

	case model.StateReceiptPending:
		return StateProjection{
			State:            state,
			Label:            "受け取り待ち",
			Tone:             "info",
			PrimaryAction:    actionConfirmReceipt,
			SecondaryActions: []Action{actionOpenDispute},
		}

	case model.StateReceiptConfirmed:
		return StateProjection{
			State:            state,
			Label:            "受け取り確認済み",
			Tone:             "info",
			PrimaryAction:    actionConfirmPayment,
			SecondaryActions: []Action{actionOpenDispute},
		}

	case model.StateCompleted:
		return StateProjection{
			State:            state,
			Label:            "取引完了",
			Tone:             "success",
			PrimaryAction:    actionViewDetails,
			SecondaryActions: []Action{},
		}

	case model.StateDisputeOpen:
		return StateProjection{
			State:            state,
			Label:            "異議申し立て中",
			Tone:             "danger",
			PrimaryAction:    actionViewDispute,
			SecondaryActions: []Action{},
		}

	case model.StateCancelled:
		return StateProjection{
			State:            state,
			Label:            "キャンセル済み",
			Tone:             "muted",
			PrimaryAction:    actionViewDetails,
			SecondaryActions: []Action{},
		}
	}

	// DeriveStateが返さない値。到達したらフロントに素の状態だけ返す。
	return StateProjection{
		State:            state,
		Label:            string(state),
		Tone:             "info",
		PrimaryAction:    actionViewDetails,
		SecondaryActions: []Action{},
	}
}
