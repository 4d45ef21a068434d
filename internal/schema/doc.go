// Package schema defines the records that flow through the offline queue.
//
// # Overview
//
// Two record kinds are persisted by the local store:
//
//   - Transaction: one action recorded at the counter (issue, return, consume,
//     restock, adjust) waiting to be uploaded.
//   - Student: a reference entity downloaded from the remote authority and
//     used to annotate transactions.
//
// # Transaction Wire Form
//
// Transactions are stored and uploaded as the same JSON object:
//
//	{
//	  "txn_id": "0d6c86c5-3bb1-4f8c-9a0e-2f7a6a1c3f10",
//	  "device_id": "dev_5e1f0c2a",
//	  "staff_id": "S-042",
//	  "timestamp": "2026-10-14T08:31:07.412Z",
//	  "action_type": "CONSUME",
//	  "ref_type": "ITEM",
//	  "ref_id": "8901234567890",
//	  "student_id": "",
//	  "student_name": "",
//	  "quantity": 3,
//	  "notes": "lab kit"
//	}
//
// The txn_id is assigned once when the record is created and is the only key
// used for deduplication, locally and by the remote.
//
// # Action Kinds
//
//   - ISSUE_BOOK, RETURN_BOOK - reference type BOOK, quantity ignored
//   - CONSUME, RESTOCK - reference type ITEM, quantity required
//   - ADJUST - reference type MIXED, quantity required
//
// # Usage
//
//	txn := &schema.Transaction{
//	    ID:        identity.NewTransactionID(),
//	    DeviceID:  deviceID,
//	    StaffID:   "S-042",
//	    Action:    schema.ActionConsume,
//	    RefID:     "8901234567890",
//	    Quantity:  schema.Qty(3),
//	}
//	txn.SetDefaults(time.Now())
//	if err := txn.Validate(); err != nil {
//	    return err
//	}
package schema
