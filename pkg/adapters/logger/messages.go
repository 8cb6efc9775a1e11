package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Job level messages (info)
		"Transcoding %s to %s (%dx%d, %s)":            "%s を %s へ変換中 (%dx%d, %s)",
		"Output uploaded as %s: %d bytes in %d units": "%s としてアップロードしました: %d バイト, %d ユニット",
		"Stopped early after %d frames":               "%d フレームで早期停止しました",
		"Interrupted, stopping gracefully...":         "中断されました。正常に停止中...",
		"Interrupted again, aborting":                 "再度中断されました。中止します",
		"Serving metrics on %s":                       "%s でメトリクスを公開中",
		"Summary written to %s":                       "サマリーを %s に書き込みました",

		// Failure kinds
		"Transcode failed: %s":           "変換に失敗しました: %s",
		"unsupported configuration (%s)": "未対応の設定 (%s)",
		"codec failure (%s)":             "コーデックエラー (%s)",
		"container error (%s)":           "コンテナエラー (%s)",
		"upload failure (%s)":            "アップロードエラー (%s)",
		"cancelled":                      "キャンセルされました",
		"Metrics server stopped: %v":     "メトリクスサーバーが停止しました: %v",

		// Demux stage
		"Input track: %s %dx%d":     "入力トラック: %s %dx%d",
		"Demuxed %d samples":        "%d サンプルを分離しました",
		"Source stopped on request": "要求によりソースを停止しました",
		"Released %d queued frames": "キューに残った %d フレームを解放しました",

		// Decode stage
		"Decoder configured for %s %dx%d":             "デコーダーを設定しました: %s %dx%d",
		"Frame at %v arrived past the reorder window": "%v のフレームが並べ替え範囲を超えて到着しました",
		"Decoded %d frames":                           "%d フレームをデコードしました",
		"Input ended before configuration":            "設定の前に入力が終了しました",
		"Close decoder: %v":                           "デコーダーのクローズ: %v",

		// Encode stage
		"Encoder configured: %s %dx%d, %d bps, %.2f fps (%s)": "エンコーダーを設定しました: %s %dx%d, %d bps, %.2f fps (%s)",
		"Output format changed to %s %dx%d":                   "出力形式が %s %dx%d に変わりました",
		"Encoded %d frames into %d chunks":                    "%d フレームを %d チャンクにエンコードしました",
		"No frames to encode":                                 "エンコードするフレームがありません",
		"Close encoder: %v":                                   "エンコーダーのクローズ: %v",

		// Render stage
		"Render decoder configured for %s %dx%d":                         "描画用デコーダーを設定しました: %s %dx%d",
		"Render skipped chunk at %v: no configuration":                   "%v のチャンクを描画しませんでした: 設定がありません",
		"Render decoder unavailable for %s: %v":                          "%s の描画用デコーダーを利用できません: %v",
		"Render decode failed at %v: %v":                                 "%v の描画用デコードに失敗しました: %v",
		"Render decoder failed: %v":                                      "描画用デコーダーが失敗しました: %v",
		"Render failed at %v: %v":                                        "%v の描画に失敗しました: %v",
		"Forwarded %d chunks, rendered %d frames, dropped %d, failed %d": "%d チャンクを転送, %d フレームを描画, %d 件破棄, %d 件失敗",

		// Remux stage
		"Container opened for %s %dx%d":            "コンテナを開きました: %s %dx%d",
		"Ignoring repeated configuration %s %dx%d": "同一の設定を無視します: %s %dx%d",
		"Restarting container for %s %dx%d":        "コンテナを再開始します: %s %dx%d",
		"Muxed %d segments, %d bytes":              "%d セグメント, %d バイトを多重化しました",

		// Upload stage
		"Flushed unit %d: %d bytes at offset %d": "ユニット %d を送信: %d バイト (オフセット %d)",
		"Uploaded %d bytes in %d units":          "%d バイトを %d ユニットでアップロードしました",
		"Abort upload of %s: %v":                 "%s のアップロード中止: %v",
	})
}
