// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/google/uuid"
)

// accountNamespace は外部IDからアカウントIDを導出する際のUUID名前空間。
var accountNamespace = uuid.MustParse("6f1c2a0e-4b7d-5e39-9a61-2d8c5f0b7e14")

// Plan はアカウントの料金プランを表す。閉じた集合で、最下位はPlanFree。
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// デフォルトの1日あたりリクエスト上限
const (
	DefaultFreeDailyLimit       = 1000
	DefaultProDailyLimit        = 10000
	DefaultEnterpriseDailyLimit = 100000
)

// Valid はプランが既知の値かどうかを返す。
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// DailyLimit はプランごとの1日あたりリクエスト上限を返す。
// freeLimitはPlanFreeにのみ適用される（設定値で上書き可能なため）。
func (p Plan) DailyLimit(freeLimit int) int {
	switch p {
	case PlanPro:
		return DefaultProDailyLimit
	case PlanEnterprise:
		return DefaultEnterpriseDailyLimit
	default:
		if freeLimit <= 0 {
			return DefaultFreeDailyLimit
		}
		return freeLimit
	}
}

// Profile はTelegram側から取得したユーザーの表示情報を表す。
type Profile struct {
	DisplayName string
	Handle      string
}

// Account はサービス利用アカウントを表す。
// ExternalIDごとに一意で、一度作成された後は更新のみ行われる。
type Account struct {
	ID          string
	ExternalID  string
	Handle      string
	DisplayName string
	Credential  string
	Plan        Plan
	UsageToday  int
	UsageLimit  int
	UsageTotal  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsageRemaining は当日の残りリクエスト数を返す。
func (a *Account) UsageRemaining() int {
	if a.UsageToday >= a.UsageLimit {
		return 0
	}
	return a.UsageLimit - a.UsageToday
}

// AccountIDFor は外部IDから安定したアカウントIDを導出する。
// 同じ外部IDに対しては常に同じIDを返す。
func AccountIDFor(externalID string) string {
	return uuid.NewSHA1(accountNamespace, []byte("telegram:"+externalID)).String()
}

// PendingAuth は発行済みで未使用の認証コードを表す。
// 期限切れまたは使用済みになった時点でレジストリから取り除かれる。
type PendingAuth struct {
	Code       string
	ExternalID string
	Profile    Profile
	IssuedAt   time.Time
	ExpiresAt  time.Time
}
