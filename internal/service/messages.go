package service

import (
	"outing/internal/ai"
	"outing/internal/modules/conversation"
)

const (
	QuickReplyShowMore = "他のスポットも見る"

	msgGreeting       = "こんにちは！週末のお出かけプランをお手伝いします。どのようなプランをお探しですか？"
	msgNeedMoreDetail = "すみません、うまく読み取れませんでした。出発地や行きたい場所の種類、移動時間などをもう少し詳しく教えてください。"
	msgTellMore       = "ありがとうございます。ほかに希望があれば教えてください。行きたい場所の種類や移動時間がわかると、プランを作成できます。"
	msgGeneric        = "ご質問ありがとうございます。新しいプランを作成する場合は、新しい会話を始めてください。"
	msgAnythingElse   = "このプランについて、ほかにお手伝いできることはありますか？"
	msgAskShowMore    = "別のスポットを見たい場合は「他のスポットも見る」と送ってください。"
	msgShowMoreLimit  = "申し訳ありませんが、追加のご提案はここまでとなります。これまでにご紹介したスポットの中からお選びください。"
	msgHolding        = "条件がそろいました。プランを作成しますので、もう一度メッセージを送ってください。"
	msgNoPlaces       = "\n\n※ 提案された施設の詳細情報は取得できませんでした。"
)

type question struct {
	text         string
	quickReplies []string
}

var questions = map[conversation.Field]question{
	conversation.FieldLocation: {
		text: "どちらから出発されますか？駅名や地名、または現在地を教えてください。",
	},
	conversation.FieldActivityType: {
		text:         "アクティブな場所をお探しですか、それともインドアの施設がよいですか？",
		quickReplies: []string{"アクティブ", "インドア"},
	},
	conversation.FieldMeals: {
		text:         "昼食はお取りになりますか？",
		quickReplies: []string{"とる", "とらない"},
	},
	conversation.FieldChildAge: {
		text:         "お子さまは何歳ですか？年齢に合った施設をお探しします。",
		quickReplies: []string{"0-2歳", "3-5歳", "6歳以上"},
	},
	conversation.FieldTravelTime: {
		text:         "移動時間は片道どのくらいまでがよいですか？",
		quickReplies: []string{"30分", "1時間", "1時間半"},
	},
	conversation.FieldTransportation: {
		text:         "移動手段は車と電車・バスのどちらですか？",
		quickReplies: []string{"車", "電車・バス"},
	},
}

var apologies = map[ai.FailureKind]string{
	ai.FailureTimeout: "申し訳ありません、プランの作成に時間がかかりすぎてしまいました。もう一度メッセージを送ってお試しください。",
	ai.FailureQuota:   "申し訳ありません、現在アクセスが集中しています。しばらく待ってからもう一度お試しください。",
	ai.FailureNetwork: "申し訳ありません、通信エラーが発生しました。接続を確認して、もう一度お試しください。",
	ai.FailureAuth:    "申し訳ありません、サービスの設定に問題が発生しています。時間をおいてもう一度お試しください。",
	ai.FailureUnknown: "プランの作成中にエラーが発生しました。もう一度お試しください。",
}

// Apology returns the user-facing message for a generation failure.
func Apology(kind ai.FailureKind) string {
	if msg, ok := apologies[kind]; ok {
		return msg
	}
	return apologies[ai.FailureUnknown]
}
